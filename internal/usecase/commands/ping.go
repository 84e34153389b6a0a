package commands

func NewPingCommand() BotCommand {
	return NewBotCommand("ping", "Replies with pong to check the bot is alive.", []string{"!ping"}, func(string) string {
		return "pong"
	})
}
