package utils

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"VoteBoard/config"
)

// InitLogger configures the standard logrus logger from conf.
// Unknown levels fall back to info.
func InitLogger(conf config.LogConf) {
	log.SetOutput(os.Stdout)
	if strings.EqualFold(conf.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	SetLogLevel(conf.Level)
}

func SetLogLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
