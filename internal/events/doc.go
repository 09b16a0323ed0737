// Package events 负责工资单终态事件的投递与消费。
//
// Publisher 把每次编排的 Outcome 转换为 Event 写入队列（内存、Redis list 或
// RabbitMQ），Processor 以多个工作协程消费事件，对 FAILED 的工资单通过
// observability/alerting 派发告警。发布失败只记录日志，不影响编排结果。
package events
