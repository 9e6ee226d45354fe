// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 AgentBus 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供通用的辅助能力,
避免各包重复实现相似的测试基础设施。断言本身用 testify,
这里只放 testify 不覆盖的部分:上下文生命周期、异步轮询
与 JSON 数据工具。领域夹具(信封、管道状态、内存库)
留在各自包的 _test.go 内,贴近被测代码。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 等待工具: WaitFor / WaitForChannel，轮询条件或带超时收通道
  - 数据工具: MustJSON / MustParseJSON / AssertJSONEqual，
    简化测试数据构造与结构比较

# 使用示例

	ctx := testutil.TestContext(t)
	testutil.AssertEventuallyTrue(t, func() bool {
		recs, err := store.ListFeedback(ctx, "S-1")
		return err == nil && len(recs) == 1
	}, 2*time.Second)
*/
package testutil
