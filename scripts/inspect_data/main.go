package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"rasp/internal/storage"
)

func main() {
	var (
		dataPath = flag.String("data", "./data", "Data directory path")
		last     = flag.Int("last", 5, "Number of most recent history entries to print")
	)
	flag.Parse()

	fmt.Printf("Inspecting data in: %s\n", *dataPath)

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	users, err := store.UserCount()
	if err != nil {
		log.Fatalf("Failed to count users: %v", err)
	}
	entries, err := store.History()
	if err != nil {
		log.Fatalf("Failed to read history: %v", err)
	}

	fmt.Printf("  Users: %d\n", users)
	fmt.Printf("  History entries: %d\n", len(entries))
	if len(entries) == 0 {
		return
	}

	var absent int
	for _, e := range entries {
		for _, v := range e.Processed {
			if v == nil {
				absent++
			}
		}
	}
	fmt.Printf("  First: %s\n", entries[0].Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Last:  %s\n", entries[len(entries)-1].Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Absent feature values: %d\n", absent)

	start := len(entries) - *last
	if start < 0 {
		start = 0
	}
	fmt.Printf("\nMost recent %d entries:\n", len(entries)-start)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, e := range entries[start:] {
		if err := enc.Encode(e); err != nil {
			log.Fatalf("Failed to encode entry: %v", err)
		}
	}
}
