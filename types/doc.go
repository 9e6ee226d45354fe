// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentBus 编排核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 envelope、bus、workflow、
persistence 等上层模块提供统一的类型契约。所有跨包共享的标识符、枚举和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - AgentID           — 代理标识符（"system:agent" 命名空间格式）
  - MessageType       — 封闭的消息类型枚举（23 种，校验器拒绝其余值）
  - Error / ErrorCode — 结构化错误体系，含 Retryable、Component 标记

# 主要能力

  - 错误工具链：NewError / WithCause / WithRetryable / IsRetryable / GetErrorCode
  - 类型枚举：AllMessageTypes（声明顺序即规范顺序）、MessageType.Valid
  - 标识解析：NewAgentID / AgentID.System / AgentID.Agent / AgentID.Validate
*/
package types
