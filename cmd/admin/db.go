package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index/chunks.sqlite", "sqlite index path")
	limit := fs.Int("limit", 20, "result limit")
	outcome := fs.String("outcome", "", "outcome filter (jobs)")
	_ = fs.Parse(args)

	q := "stats"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "stats":
		rows, err := db.Query(`SELECT cap,resolution,COUNT(*),SUM(nodes),SUM(far_values),AVG(build_us) FROM chunks GROUP BY cap,resolution ORDER BY cap,resolution DESC`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Cap        int     `json:"cap"`
				Resolution int     `json:"resolution"`
				Chunks     int     `json:"chunks"`
				Nodes      int64   `json:"nodes"`
				FarValues  int64   `json:"far_values"`
				AvgBuildUS float64 `json:"avg_build_us"`
			}
			if err := rows.Scan(&r.Cap, &r.Resolution, &r.Chunks, &r.Nodes, &r.FarValues, &r.AvgBuildUS); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "outcomes":
		rows, err := db.Query(`SELECT outcome,COUNT(*),AVG(total_us),SUM(cached) FROM jobs GROUP BY outcome ORDER BY outcome`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Outcome    string  `json:"outcome"`
				Jobs       int     `json:"jobs"`
				AvgTotalUS float64 `json:"avg_total_us"`
				Cached     int     `json:"cached"`
			}
			if err := rows.Scan(&r.Outcome, &r.Jobs, &r.AvgTotalUS, &r.Cached); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "jobs":
		query := `SELECT time,cx,cy,cz,resolution,outcome,total_us,nodes,COALESCE(error,'') FROM jobs`
		qargs := []any{}
		if s := strings.TrimSpace(*outcome); s != "" {
			query += ` WHERE outcome=?`
			qargs = append(qargs, s)
		}
		query += ` ORDER BY id DESC LIMIT ?`
		qargs = append(qargs, *limit)
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Time       string `json:"time"`
				Chunk      [3]int `json:"chunk"`
				Resolution int    `json:"resolution"`
				Outcome    string `json:"outcome"`
				TotalUS    int64  `json:"total_us"`
				Nodes      int64  `json:"nodes"`
				Error      string `json:"error,omitempty"`
			}
			if err := rows.Scan(&r.Time, &r.Chunk[0], &r.Chunk[1], &r.Chunk[2], &r.Resolution, &r.Outcome, &r.TotalUS, &r.Nodes, &r.Error); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			fmt.Printf("%s=%s\n", k, v)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want stats|outcomes|jobs|meta)")
		os.Exit(2)
	}
}
