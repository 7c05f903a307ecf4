package main

import "github.com/dag-hammarskjold-library/dlx-sub000/cmd"

func main() {
	cmd.Execute()
}
