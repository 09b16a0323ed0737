package evm

// TreasuryABI is the interface of the on-chain treasury contract.
const TreasuryABI = `[
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"router","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"swapAllowances","stateMutability":"view","inputs":[{"name":"","type":"address"},{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"requestPayment","stateMutability":"nonpayable","inputs":[{"name":"payee","type":"address"},{"name":"amount","type":"uint256"},{"name":"token","type":"address"}],"outputs":[]},
  {"type":"function","name":"authorizeSwap","stateMutability":"nonpayable","inputs":[{"name":"fromToken","type":"address"},{"name":"toToken","type":"address"},{"name":"maxAmount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"executePayment","stateMutability":"nonpayable","inputs":[{"name":"payer","type":"address"},{"name":"payee","type":"address"},{"name":"amount","type":"uint256"},{"name":"token","type":"address"}],"outputs":[]},
  {"type":"function","name":"getTokenBalance","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"PaymentRequested","anonymous":false,"inputs":[{"name":"payer","type":"address","indexed":true},{"name":"payee","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"token","type":"address","indexed":false}]},
  {"type":"event","name":"PaymentExecuted","anonymous":false,"inputs":[{"name":"payer","type":"address","indexed":true},{"name":"payee","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"token","type":"address","indexed":false}]},
  {"type":"event","name":"PaymentFailed","anonymous":false,"inputs":[{"name":"payer","type":"address","indexed":true},{"name":"payee","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"token","type":"address","indexed":false},{"name":"reason","type":"string","indexed":false}]},
  {"type":"event","name":"SwapAuthorized","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"fromToken","type":"address","indexed":true},{"name":"toToken","type":"address","indexed":true},{"name":"maxAmount","type":"uint256","indexed":false}]}
]`
