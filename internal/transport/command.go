package transport

// OptionType enumerates the value kinds a command option can carry.
type OptionType int

const (
	OptionString OptionType = iota
	OptionInteger
	OptionBoolean
	OptionUser
	OptionChannel
)

// Choice is a fixed value the platform offers for an option.
type Choice struct {
	Name  string
	Value string
}

// CommandOption describes one argument of a chat command.
type CommandOption struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
	Choices     []Choice
}

// Command describes a chat command to register with the platform. A command
// carries either Options or Subcommands, not both; subcommands are dispatched
// as "parent child" in Interaction.Command.
type Command struct {
	Name        string
	Description string
	Options     []CommandOption
	Subcommands []Command
}
