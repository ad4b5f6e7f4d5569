package main

import "github.com/MeKo-Tech/invocr/cmd/invocr/cmd"

func main() {
	cmd.Execute()
}
