package main

import "github.com/ValentinKolb/replkv/cmd"

func main() {
	cmd.Execute()
}
