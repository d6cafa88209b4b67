// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "QAGate")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	viper.SetDefault("store.sqlite.enabled", true)
	viper.SetDefault("store.sqlite.path", "qagate.db")
	viper.SetDefault("store.mysql.enabled", false)
	viper.SetDefault("store.mysql.username", "qagate")
	viper.SetDefault("store.mysql.password", "")
	viper.SetDefault("store.mysql.database", "qagate")
	viper.SetDefault("store.mysql.host", "localhost")
	viper.SetDefault("store.mysql.port", "3306")

	viper.SetDefault("bus.buffersize", 4096)
	viper.SetDefault("bus.workers", 4)
	viper.SetDefault("bus.maxattempts", 5)
	viper.SetDefault("bus.backoffinitial", 200*time.Millisecond)
	viper.SetDefault("bus.backoffmax", 30*time.Second)

	viper.SetDefault("broker.enabled", false)
	viper.SetDefault("broker.url", "tcp://localhost:1883")
	viper.SetDefault("broker.clientid", "qagate")
	viper.SetDefault("broker.topicprefix", "esg/qa")
	viper.SetDefault("broker.retain", false)
	viper.SetDefault("broker.connecttimeout", 30*time.Second)
	viper.SetDefault("broker.publishtimeout", 10*time.Second)
	viper.SetDefault("broker.disconnecttimeout", 5*time.Second)
	viper.SetDefault("broker.reconnectdelay", 5*time.Second)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8320")
	viper.SetDefault("webserver.debug", false)

	viper.SetDefault("review.conflictretries", 5)
	viper.SetDefault("review.pendingcachettl", 5*time.Second)
}
