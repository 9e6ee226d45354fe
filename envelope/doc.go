// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
Package envelope 实现代理间消息的信封编解码与校验。

# 概述

信封是总线上唯一的传输单元:每条消息由工厂函数创建一次,携带 uuid v4
标识、RFC3339 时间戳(毫秒精度,显式 T 分隔符)、协议语义化版本号与按
消息类型区分的载荷。信封创建后不再修改;回复通过 NewResponse 派生新
信封并以 correlation_id 关联请求。

# 校验器

Validate 是纯函数:任意候选值(结构体、map、JSON 字节)进入,结构化的
Result 返回,永不 panic。错误码包括 REQUIRED_FIELD、INVALID_FIELD、
UNKNOWN_TYPE、VERSION_MISMATCH。消息类型枚举是封闭的:未知类型只产生
一条 UNKNOWN_TYPE 错误并跳过载荷检查。版本只比较主版本号,次版本与
修订版本允许漂移。

# 线格式

JSON。时间戳序列化为 "2006-01-02T15:04:05.000Z07:00"(毫秒精度恒定),
TTL 以 ttl_ms 毫秒整数表示。编码路径使用内部缓冲池以减少分配。
*/
package envelope
