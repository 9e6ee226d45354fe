// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
Package workflow 提供线性工作流执行引擎与参考流水线。

# 概述

workflow 包实现 AgentBus 的工作流系统：固定命名的节点序列按声明顺序
严格串行执行，节点返回部分状态更新，由具名 reducer（Apply）浅合并到
累积状态上。节点出错即终止流水线，错误进入状态的 errors 列表，调用方
始终拿到一个终态对象而非异常。

# 核心接口与类型

  - Status             — 所有状态内嵌的游标（Step / Completed / Errors）
  - Update[S]          — 节点返回的部分状态更新（对副本的写函数）
  - Apply[S]           — 具名 reducer：复制当前状态并应用更新，后写优先
  - Node[S]            — 命名节点 Run(ctx, S) (Update[S], error)
  - Pipeline[S]        — 线性流水线（可选 Checkpointer / Recorder / 指标）
  - Checkpointer       — 每节点后的状态检查点（写失败会向上传播）
  - Recorder           — fail-soft 审计事件（失败只记日志，不传播）

# 参考流水线

  - NewLearningPipeline — 主题识别 → 掌握度评估 → 建议 → 持久化
  - NewQualityPipeline  — 相关性/准确性/有用性评分 → 加权聚合 → 评审落库
*/
package workflow
