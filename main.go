package main

import "profile-indexer/cmd"

func main() {
	cmd.Execute()
}
