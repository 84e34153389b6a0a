// Package logging hands out module-scoped logrus entries.
package logging

import (
	"github.com/sirupsen/logrus"
)

type Module string

const (
	AppModule       Module = "app"
	CommandsModule  Module = "commands"
	TwitchModule    Module = "twitch"
	AuthModule      Module = "deviceauth"
	BootstrapModule Module = "bootstrap"
	StoreModule     Module = "store"
	MusicModule     Module = "music"
	NotifyModule    Module = "notify"
	WebModule       Module = "web"
	EventsModule    Module = "events"
)

func GetLogger(module Module) *logrus.Entry {
	return logrus.WithField("module", module)
}

func Setup(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ll, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).Errorf("can not parse log level %s, keeping %s", level, logrus.GetLevel())
		return
	}
	logrus.SetLevel(ll)
}
