// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
包 migration 为 AgentBus 提供版本化的数据库 Schema 迁移，基于
golang-migrate 实现,支持 PostgreSQL、MySQL 与 SQLite 三种方言。

各方言的 SQL 迁移文件通过 embed.FS 内嵌到二进制中,按
migrations/<dialect>/NNNNNN_name.{up,down}.sql 命名。当前包含两组
迁移:000001 建立编排核心表(checkpoints、tasks、agent_results、
events、metrics、log_entries、breaker_states),000002 建立学习域表
(mastery、feedback、quality_reviews)。索引名与 persistence 包的
GORM 模型标签保持一致,两条路径(AutoMigrate 与本包)落出的 Schema
可以互认。

# 核心类型

  - Migrator:迁移器接口,提供 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 完整操作集。
  - DefaultMigrator:默认实现,封装 golang-migrate 实例与数据库连接。
  - Config:迁移配置(数据库类型、连接 URL、版本表名)。
  - CLI:面向终端的包装层,提供 RunUp/RunStatus/RunInfo 等格式化输出。

# 工厂函数

NewMigratorFromConfig / NewMigratorFromDatabaseConfig 从应用配置
直接构建迁移器,NewMigratorFromURL 接受显式的类型与连接 URL。
ParseDatabaseType 与 BuildDatabaseURL 负责类型解析与各方言的
连接串拼装。
*/
package migration
