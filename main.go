package main

import "ghostbot/cmd"

func main() {
	cmd.Execute()
}
