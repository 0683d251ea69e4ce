/*
Package main is the cueflow executable.

Subcommands:

	cueflow serve     MCP server over stdio for the agent side
	cueflow console   interactive terminal for answering pending cues
	cueflow migrate   database schema migrations
	cueflow version   build information

serve speaks the Model Context Protocol on stdin/stdout, so every log
line goes to stderr and the Prometheus endpoint runs on its own port.
serve and console share one store; any of the SQL backends, Redis, or
the in-process memory store can back it, selected by configuration.
*/
package main
