package main

import "github.com/certdesk/certdesk/cmd"

func main() {
	cmd.Execute()
}
