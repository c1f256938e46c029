package bot

import "strings"

// Command names understood by the dispatcher.
const (
	cmdStart    = "start"
	cmdHelp     = "help"
	cmdRegister = "register"
	cmdSearch   = "search"
	cmdList     = "list"
	cmdShare    = "share"
	cmdAccept   = "accept"
	cmdRefuse   = "refuse"

	// Pseudo-commands used as metric labels.
	cmdUpload  = "upload"
	cmdUnknown = "unknown"
)

// command is a parsed "/name arg1 arg2" message.
type command struct {
	name string
	args []string
}

// parseCommand splits text into a lower-cased command name and its
// whitespace-separated arguments. A "@BotName" suffix on the name, as sent
// in group chats, is dropped. ok is false for text that is not a command.
func parseCommand(text string) (command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return command{}, false
	}

	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}

	if name == "" {
		return command{}, false
	}

	return command{name: strings.ToLower(name), args: fields[1:]}, true
}
