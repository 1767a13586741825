package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/traPtitech/calQ/router"
	"github.com/traPtitech/calQ/service/call"
	"github.com/traPtitech/calQ/utils/gormzap"
)

// Config 設定
type Config struct {
	// DevMode 開発モードかどうか (default: false)
	DevMode bool `mapstructure:"dev" yaml:"dev"`
	// Pprof pprofを有効にするかどうか (default: false)
	Pprof bool `mapstructure:"pprof" yaml:"pprof"`

	// Origin サーバーオリジン (default: http://localhost:3000)
	Origin string `mapstructure:"origin" yaml:"origin"`
	// Port サーバーポート番号 (default: 3000)
	Port int `mapstructure:"port" yaml:"port"`
	// ShutdownTimeout シャットダウン待機秒数 (default: 10)
	ShutdownTimeout int `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout"`

	// AdminToken 管理API用トークン。空の場合、管理APIは無効 (default: 無効)
	AdminToken string `mapstructure:"adminToken" yaml:"adminToken"`

	// Call 通話設定
	Call struct {
		// MissedTimeout 未応答の通話を不在着信にするまでの秒数 (default: 1800)
		MissedTimeout int `mapstructure:"missedTimeout" yaml:"missedTimeout"`
		// SweepInterval 滞留通話の定期スイープ間隔秒数 (default: 300)
		SweepInterval int `mapstructure:"sweepInterval" yaml:"sweepInterval"`
	} `mapstructure:"call" yaml:"call"`

	// Typing 入力中表示設定
	Typing struct {
		// TTL 入力中状態の有効秒数 (default: 5)
		TTL int `mapstructure:"ttl" yaml:"ttl"`
		// SweepInterval 期限切れ状態のスイープ間隔秒数 (default: 1)
		SweepInterval int `mapstructure:"sweepInterval" yaml:"sweepInterval"`
	} `mapstructure:"typing" yaml:"typing"`

	// MariaDB データベース接続設定
	MariaDB struct {
		// Host ホスト名 (default: 127.0.0.1)
		Host string `mapstructure:"host" yaml:"host"`
		// Port ポート番号 (default: 3306)
		Port int `mapstructure:"port" yaml:"port"`
		// Username ユーザー名 (default: root)
		Username string `mapstructure:"username" yaml:"username"`
		// Password パスワード (default: password)
		Password string `mapstructure:"password" yaml:"password"`
		// Database データベース名 (default: calq)
		Database string `mapstructure:"database" yaml:"database"`
		// Connection コネクション設定
		Connection struct {
			// MaxOpen 最大オープン接続数. 0は無制限 (default: 0)
			MaxOpen int `mapstructure:"maxOpen" yaml:"maxOpen"`
			// MaxIdle 最大アイドル接続数 (default: 2)
			MaxIdle int `mapstructure:"maxIdle" yaml:"maxIdle"`
			// LifeTime 待機接続維持秒数. 0は無制限 (default: 0)
			LifeTime int `mapstructure:"lifetime" yaml:"lifetime"`
		} `mapstructure:"connection" yaml:"connection"`
	} `mapstructure:"mariadb" yaml:"mariadb"`
}

// Configのデフォルト値設定
func init() {
	viper.SetDefault("dev", false)
	viper.SetDefault("pprof", false)
	viper.SetDefault("origin", "http://localhost:3000")
	viper.SetDefault("port", 3000)
	viper.SetDefault("shutdownTimeout", 10)
	viper.SetDefault("adminToken", "")
	viper.SetDefault("call.missedTimeout", 1800)
	viper.SetDefault("call.sweepInterval", 300)
	viper.SetDefault("typing.ttl", 5)
	viper.SetDefault("typing.sweepInterval", 1)
	viper.SetDefault("mariadb.host", "127.0.0.1")
	viper.SetDefault("mariadb.port", 3306)
	viper.SetDefault("mariadb.username", "root")
	viper.SetDefault("mariadb.password", "password")
	viper.SetDefault("mariadb.database", "calq")
	viper.SetDefault("mariadb.connection.maxOpen", 0)
	viper.SetDefault("mariadb.connection.maxIdle", 2)
	viper.SetDefault("mariadb.connection.lifetime", 0)
}

func (c Config) getDatabase(logger *zap.Logger) (*gorm.DB, error) {
	engine, err := gorm.Open(mysql.New(mysql.Config{
		DSN: fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			c.MariaDB.Username,
			c.MariaDB.Password,
			c.MariaDB.Host,
			c.MariaDB.Port,
			c.MariaDB.Database,
		),
	}), &gorm.Config{
		Logger: gormzap.New(logger.Named("gorm")),
	})
	if err != nil {
		return nil, err
	}

	db, err := engine.DB()
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.MariaDB.Connection.MaxOpen)
	db.SetMaxIdleConns(c.MariaDB.Connection.MaxIdle)
	db.SetConnMaxLifetime(time.Duration(c.MariaDB.Connection.LifeTime) * time.Second)
	return engine, nil
}

func (c Config) getCallConfig() call.Config {
	return call.Config{
		MissedTimeout: time.Duration(c.Call.MissedTimeout) * time.Second,
		SweepInterval: time.Duration(c.Call.SweepInterval) * time.Second,
	}
}

func (c Config) getRouterConfig() *router.Config {
	return &router.Config{
		Development: c.DevMode,
		Version:     Version,
		Revision:    Revision,
		AdminToken:  c.AdminToken,
	}
}
