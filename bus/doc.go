// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

// Package bus 实现进程内发布/订阅消息总线。
//
// 订阅键空间由三类组成:精确消息类型(如 "task.assigned")、目标
// 代理("agent:backend:coder")与通配符("*")。一次发布的投递集合
// 是三类命中订阅的并集,同一处理器跨键去重后只触发一次。
//
// 投递语义:各处理器相互独立并发执行,单个处理器失败不影响其他
// 处理器;按选项对失败处理器做线性退避重试(delay * 已尝试次数)。
// 无任何订阅者命中时信封进入无界待投递队列,可由 Pending/ClearQueue
// 排空,不会被静默丢弃。发布结果以 PublishResult 结构返回,从不
// panic。
//
// 除进程内投递外,Transport 接口提供具名替代投递策略:HTTP 推送
// (POST {base_url}/messages,单次调用超时,内部不重试)、Redis
// 队列(RPUSH/BLPOP)与反馈落库。
package bus
