// Package commands routes prefixed chat messages to registered command handlers.
//
// Routes are space separated paths ("reminder delete"), so a command can have
// subcommands. Arguments are tokenized with shell-like quoting. Handlers return the
// reply text; the router sends it back to the chat as a reply to the invoking message.
package commands
