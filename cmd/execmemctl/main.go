// Command execmemctl drives the allocator's public surface from a
// terminal, the way a systems library ships a small debug/demo binary
// without that binary being part of the library's own contract.
package main

func main() {
	execute()
}
