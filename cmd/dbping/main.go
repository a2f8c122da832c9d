// dbping - 数据库连接诊断REPL
// 交互式测试PostgreSQL连通性、查看表结构并执行只读查询，
// 查询语句经过与API服务相同的SQL安全校验
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
	"sqlchat-go/internal/security"
)

const helpText = `可用命令:
  test              测试数据库连通性
  tables            列出public schema下的表
  describe <table>  查看表的列定义
  query <sql>       执行只读SQL（经过安全校验）
  help              显示帮助
  quit              退出`

func main() {
	host := pflag.String("host", "localhost", "数据库主机")
	port := pflag.Int("port", 5432, "数据库端口")
	user := pflag.String("user", "postgres", "用户名")
	password := pflag.String("password", "", "密码")
	dbname := pflag.String("dbname", "postgres", "数据库名")
	sslmode := pflag.String("sslmode", "prefer", "SSL模式")
	pflag.Parse()

	if err := config.LoadEnv(".env"); err == nil {
		if *password == "" {
			*password = os.Getenv("DB_PASSWORD")
		}
	}

	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		*host, *port, *user, *password, *dbname, *sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.New(ctx, connString)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "连接配置无效: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	guard := security.NewQueryGuard(nil, zap.NewNop())

	fmt.Printf("dbping - 已连接到 %s:%d/%s（输入help查看命令）\n", *host, *port, *dbname)
	repl(pool, guard)
}

func repl(pool *pgxpool.Pool, guard *security.QueryGuard) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("dbping> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		command, args := splitCommand(line)
		switch command {
		case "quit", "exit":
			return
		case "help":
			fmt.Println(helpText)
		case "test":
			runTest(pool)
		case "tables":
			runTables(pool)
		case "describe":
			if args == "" {
				fmt.Println("用法: describe <table>")
				continue
			}
			runDescribe(pool, args)
		case "query":
			if args == "" {
				fmt.Println("用法: query <sql>")
				continue
			}
			runQuery(pool, guard, args)
		default:
			fmt.Printf("未知命令: %s（输入help查看命令）\n", command)
		}
	}
}

func splitCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	command := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return command, ""
	}
	return command, strings.TrimSpace(parts[1])
}

func runTest(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		fmt.Printf("连接失败: %v\n", err)
		return
	}
	fmt.Printf("连接正常，耗时 %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Println("服务端版本: " + version)
}

func runTables(pool *pgxpool.Pool) {
	// reltuples是统计估算值，ANALYZE后才准确
	const query = `
		SELECT t.table_name, COALESCE(c.reltuples, 0)::bigint
		FROM information_schema.tables t
		LEFT JOIN pg_class c
			ON c.relname = t.table_name
			AND c.relnamespace = 'public'::regnamespace
		WHERE t.table_schema = 'public' AND t.table_type = 'BASE TABLE'
		ORDER BY t.table_name`

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, query)
	if err != nil {
		fmt.Printf("查询失败: %v\n", err)
		return
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "表名\t行数估算")

	count := 0
	for rows.Next() {
		var name string
		var estimate int64
		if err := rows.Scan(&name, &estimate); err != nil {
			fmt.Printf("读取失败: %v\n", err)
			return
		}
		if estimate < 0 {
			fmt.Fprintf(w, "%s\t未统计\n", name)
		} else {
			fmt.Fprintf(w, "%s\t%d\n", name, estimate)
		}
		count++
	}
	if rows.Err() != nil {
		fmt.Printf("查询失败: %v\n", rows.Err())
		return
	}
	w.Flush()
	fmt.Printf("共%d张表\n", count)
}

func runDescribe(pool *pgxpool.Pool, table string) {
	const query = `
		SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, query, table)
	if err != nil {
		fmt.Printf("查询失败: %v\n", err)
		return
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "列名\t类型\t可空\t默认值")

	count := 0
	for rows.Next() {
		var name, dataType, nullable, defaultValue string
		if err := rows.Scan(&name, &dataType, &nullable, &defaultValue); err != nil {
			fmt.Printf("读取失败: %v\n", err)
			return
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, dataType, nullable, defaultValue)
		count++
	}
	if rows.Err() != nil {
		fmt.Printf("查询失败: %v\n", rows.Err())
		return
	}
	if count == 0 {
		fmt.Printf("表%s不存在或没有列\n", table)
		return
	}
	w.Flush()
}

func runQuery(pool *pgxpool.Pool, guard *security.QueryGuard, sql string) {
	if result := guard.Validate(sql); !result.Allowed {
		fmt.Printf("SQL被拒绝: %s\n", result.Reason)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		fmt.Printf("执行失败: %v\n", err)
		return
	}
	defer rows.Close()

	descriptions := rows.FieldDescriptions()
	columns := make([]string, len(descriptions))
	for i, d := range descriptions {
		columns[i] = d.Name
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))

	const maxRows = 100
	count := 0
	truncated := false
	for rows.Next() {
		if count >= maxRows {
			truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			fmt.Printf("读取失败: %v\n", err)
			return
		}
		cells := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
		count++
	}
	if rows.Err() != nil {
		fmt.Printf("执行失败: %v\n", rows.Err())
		return
	}

	w.Flush()
	fmt.Printf("%d行，耗时 %v\n", count, time.Since(start).Round(time.Millisecond))
	if truncated {
		fmt.Printf("（仅显示前%d行）\n", maxRows)
	}
}
