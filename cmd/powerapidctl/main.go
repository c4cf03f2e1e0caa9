// powerapidctl is the command-line client for the powerapid daemon: it
// issues one-shot SET, LOGLEVEL, and DUMP requests over the rendezvous
// socket, or drops into an interactive console for repeated use.
package main

import "github.com/cray-hpe/powerapid/cmd/powerapidctl/commands"

func main() {
	commands.Execute()
}
