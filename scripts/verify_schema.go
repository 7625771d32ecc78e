// verify_schema checks that a database file carries every table and
// lifecycle column the service expects.
//
//	go run ./scripts/verify_schema.go -db ./data/rebalancer.db
package main

import (
	"flag"
	"fmt"
	"os"

	"rebalancer-core/pkg/db"
)

var expected = map[string][]string{
	"users":         {"id", "email", "password_hash"},
	"api_keys":      {"user_id", "api_key_encrypted", "api_secret_encrypted", "testnet", "is_active"},
	"strategies":    {"user_id", "parameters", "is_active", "bot_active", "bot_interval_ms", "bot_started_at", "bot_stopped_at"},
	"orders":        {"user_id", "strategy_id", "status", "external_order_id", "filled_at", "cancelled_at"},
	"portfolio":     {"user_id", "symbol", "total_value", "pnl_percentage"},
	"price_history": {"symbol", "price", "timestamp"},
	"system_logs":   {"user_id", "level", "message", "metadata"},
}

func main() {
	path := flag.String("db", "./data/rebalancer.db", "sqlite database path")
	flag.Parse()
	fmt.Printf("Verifying database at: %s\n", *path)

	database, err := db.New(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	missing := 0
	for table, cols := range expected {
		rows, err := database.DB.Query(`SELECT name FROM pragma_table_info(?)`, table)
		if err != nil {
			fmt.Fprintf(os.Stderr, "inspect %s: %v\n", table, err)
			os.Exit(1)
		}
		have := map[string]bool{}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err == nil {
				have[name] = true
			}
		}
		rows.Close()

		if len(have) == 0 {
			fmt.Printf("MISSING table %s\n", table)
			missing++
			continue
		}
		for _, c := range cols {
			if !have[c] {
				fmt.Printf("MISSING column %s.%s\n", table, c)
				missing++
			}
		}
	}
	if missing > 0 {
		os.Exit(1)
	}
	fmt.Println("schema OK")
}
