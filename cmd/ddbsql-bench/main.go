// Command ddbsql-bench is a small exerciser for the driver: it opens a
// connection, runs a bounded SELECT with LIMIT/OFFSET, and prints row
// counts and column metadata. Grounded on the teacher's cmd/ binaries,
// which are thin main()s that wire config and call into the library
// packages rather than containing logic themselves.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/ddbsql/ddbsql"
)

func main() {
	var (
		region = flag.String("region", "us-east-1", "AWS region")
		table  = flag.String("table", "", "table to query")
		limit  = flag.Int("limit", 10, "rows to fetch")
		offset = flag.Int("offset", 0, "rows to skip")
		dsnExtra = flag.String("dsn-extra", "", "extra ;key=value properties appended to the connection URL")
	)
	flag.Parse()

	if *table == "" {
		log.Fatal("ddbsql-bench: -table is required")
	}

	dsnURL := fmt.Sprintf("ddbsql:region=%s;credentialsType=DEFAULT;", *region)
	if *dsnExtra != "" {
		dsnURL += *dsnExtra
		if !strings.HasSuffix(dsnURL, ";") {
			dsnURL += ";"
		}
	}

	db, err := sql.Open("ddbsql", dsnURL)
	if err != nil {
		log.Fatalf("ddbsql-bench: open: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	query := fmt.Sprintf(`SELECT * FROM "%s" LIMIT %d OFFSET %d`, *table, *limit, *offset)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		log.Fatalf("ddbsql-bench: query: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		log.Fatalf("ddbsql-bench: columns: %v", err)
	}
	fmt.Fprintln(os.Stdout, strings.Join(cols, "\t"))

	count := 0
	dest := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			log.Fatalf("ddbsql-bench: scan: %v", err)
		}
		parts := make([]string, len(dest))
		for i, v := range dest {
			parts[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(os.Stdout, strings.Join(parts, "\t"))
		count++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("ddbsql-bench: rows: %v", err)
	}
	fmt.Fprintf(os.Stderr, "fetched %d rows\n", count)
}
