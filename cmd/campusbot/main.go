package main

import "campusbot/internal/cli"

func main() {
	cli.Execute()
}
