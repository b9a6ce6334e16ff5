package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func main() {
	var dbPath string
	flag.StringVar(&dbPath, "db", "./history", "history LevelDB path")
	var prefix string
	flag.StringVar(&prefix, "prefix", "tx:", "key prefix, e.g. tx:unichain-sepolia: or hash:")
	flag.Parse()

	db, err := leveldb.OpenFile(dbPath, &opt.Options{ErrorIfMissing: true, ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open leveldb failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	it := db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	for it.Next() {
		fmt.Printf("%s\t%s\n", it.Key(), it.Value())
	}
	if err = it.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "iterate failed: %v\n", err)
		os.Exit(1)
	}
}
