package main

import "slack-thank-you/cmd"

func main() {
	cmd.Execute()
}
