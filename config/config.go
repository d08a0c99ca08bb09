// Copyright 2021 ecodeclub
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config 读取数据源、路由和 mapper 的配置。
// 支持 TOML 和 YAML 文件，文件中已经出现的配置项可以用 DSROUTER_ 开头的环境变量覆盖，
// 例如 DSROUTER_DATASOURCE_DB1_DSN
package config

import (
	"sort"
	"strings"
	"time"

	"github.com/ecodeclub/dsrouter/internal/errs"
	"github.com/ecodeclub/ekit/mapx"
	"github.com/spf13/viper"
)

const EnvPrefix = "DSROUTER"

type Config struct {
	// Datasources 数据源名字 => 数据源配置，名字同时是路由 key 和 unique resource name。
	// viper 会把名字转成小写
	Datasources map[string]Datasource `mapstructure:"datasource"`
	Router      Router                `mapstructure:"router"`
	Mapper      Mapper                `mapstructure:"mapper"`
	Log         Log                   `mapstructure:"log"`
	Server      Server                `mapstructure:"server"`
}

type Datasource struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type Router struct {
	Default string `mapstructure:"default"`
	// MaxBranches 单个全局事务最多可以加入的数据源数量，0 表示不限制
	MaxBranches int `mapstructure:"max_branches"`
}

type Mapper struct {
	// Locations mapper 文件的 glob 模式
	Locations                []string `mapstructure:"locations"`
	MapUnderscoreToCamelCase bool     `mapstructure:"map_underscore_to_camel_case"`
	LogSQL                   bool     `mapstructure:"log_sql"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults 设置默认值，FromViper 之前调用
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mapper.map_underscore_to_camel_case", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("server.addr", ":8080")
}

// Load 读取配置文件，文件类型由扩展名决定
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errs.WrapConfigurationError(path, "读取配置文件", err)
	}
	return FromViper(v)
}

// FromViper 从已经读取好配置的 viper 中解析并校验配置
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errs.WrapConfigurationError("config", "解析配置", err)
	}
	// 数据源名字已经被 viper 转成小写，默认数据源也要保持一致
	c.Router.Default = strings.ToLower(c.Router.Default)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate 任何一个必填项缺失都返回 ConfigurationError
func (c *Config) Validate() error {
	if len(c.Datasources) == 0 {
		return errs.NewConfigurationError("datasource", "至少需要配置一个数据源")
	}
	for _, name := range c.Names() {
		ds := c.Datasources[name]
		if ds.Driver == "" {
			return errs.NewConfigurationError(name, "driver 不能为空")
		}
		if ds.DSN == "" {
			return errs.NewConfigurationError(name, "dsn 不能为空")
		}
		if ds.MaxOpenConns < 0 || ds.MaxIdleConns < 0 {
			return errs.NewConfigurationError(name, "连接数不能为负数")
		}
	}
	if c.Router.Default == "" {
		return errs.WrapConfigurationError("router", "router.default", errs.ErrMissingDefaultRoute)
	}
	if _, ok := c.Datasources[c.Router.Default]; !ok {
		return errs.NewConfigurationError("router", "默认数据源没有配置: "+c.Router.Default)
	}
	if c.Router.MaxBranches < 0 {
		return errs.NewConfigurationError("router", "max_branches 不能为负数")
	}
	return nil
}

// Names 数据源名字，按字典序
func (c *Config) Names() []string {
	names := mapx.Keys[string, Datasource](c.Datasources)
	sort.Strings(names)
	return names
}
