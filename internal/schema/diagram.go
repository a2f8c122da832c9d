// Schema关系图生成器 - 将表结构渲染为mermaid erDiagram和markdown文档
// 内置一套电商示例Schema，供未配置数据库连接时的演示场景使用

package schema

import (
	"fmt"
	"sort"
	"strings"

	"sqlchat-go/internal/repository"
)

// Column 列定义
type Column struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Nullable    bool   `json:"nullable"`
	PrimaryKey  bool   `json:"primary_key"`
	ForeignKey  bool   `json:"foreign_key"`
	RefTable    string `json:"ref_table,omitempty"`
	RefColumn   string `json:"ref_column,omitempty"`
	Description string `json:"description,omitempty"`
}

// Table 表定义
type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns"`
}

// Relationship 表间关系
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
	Label      string `json:"label"`
}

// Diagram 可渲染的Schema图
type Diagram struct {
	Name          string         `json:"name"`
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

// SampleDiagram 返回内置的电商示例Schema
func SampleDiagram() *Diagram {
	return &Diagram{
		Name: "ecommerce-sample",
		Tables: []Table{
			{
				Name:        "customers",
				Description: "客户主数据",
				Columns: []Column{
					{Name: "id", DataType: "INTEGER", PrimaryKey: true},
					{Name: "name", DataType: "VARCHAR(100)"},
					{Name: "email", DataType: "VARCHAR(255)"},
					{Name: "city", DataType: "VARCHAR(100)", Nullable: true},
					{Name: "created_at", DataType: "TIMESTAMP"},
				},
			},
			{
				Name:        "products",
				Description: "商品目录",
				Columns: []Column{
					{Name: "id", DataType: "INTEGER", PrimaryKey: true},
					{Name: "name", DataType: "VARCHAR(100)"},
					{Name: "price", DataType: "DECIMAL(10,2)"},
					{Name: "category", DataType: "VARCHAR(50)"},
					{Name: "stock_quantity", DataType: "INTEGER"},
				},
			},
			{
				Name:        "orders",
				Description: "订单流水",
				Columns: []Column{
					{Name: "id", DataType: "INTEGER", PrimaryKey: true},
					{Name: "customer_id", DataType: "INTEGER", ForeignKey: true, RefTable: "customers", RefColumn: "id"},
					{Name: "product_name", DataType: "VARCHAR(100)"},
					{Name: "amount", DataType: "DECIMAL(10,2)"},
					{Name: "order_date", DataType: "TIMESTAMP"},
				},
			},
		},
		Relationships: []Relationship{
			{FromTable: "customers", FromColumn: "id", ToTable: "orders", ToColumn: "customer_id", Label: "places"},
			{FromTable: "products", FromColumn: "name", ToTable: "orders", ToColumn: "product_name", Label: "appears in"},
		},
	}
}

// FromMetadata 将元数据行集合转换为Schema图
// 外键信息用于推导表间关系
func FromMetadata(name string, metadata []*repository.SchemaMetadata) *Diagram {
	tables := make(map[string]*Table)
	var order []string
	var relationships []Relationship

	for _, m := range metadata {
		table, ok := tables[m.TableName]
		if !ok {
			table = &Table{Name: m.TableName}
			tables[m.TableName] = table
			order = append(order, m.TableName)
		}

		col := Column{
			Name:       m.ColumnName,
			DataType:   m.DataType,
			Nullable:   m.IsNullable,
			PrimaryKey: m.IsPrimaryKey,
			ForeignKey: m.IsForeignKey,
		}
		if m.IsForeignKey && m.ReferencedTable != nil {
			col.RefTable = *m.ReferencedTable
			if m.ReferencedColumn != nil {
				col.RefColumn = *m.ReferencedColumn
			}
			relationships = append(relationships, Relationship{
				FromTable:  col.RefTable,
				FromColumn: col.RefColumn,
				ToTable:    m.TableName,
				ToColumn:   m.ColumnName,
				Label:      "references",
			})
		}
		table.Columns = append(table.Columns, col)
	}

	sort.Strings(order)

	diagram := &Diagram{Name: name, Relationships: relationships}
	for _, tableName := range order {
		diagram.Tables = append(diagram.Tables, *tables[tableName])
	}

	return diagram
}

// Mermaid 渲染mermaid erDiagram文本
func (d *Diagram) Mermaid() string {
	var b strings.Builder
	b.WriteString("erDiagram\n")

	for _, table := range d.Tables {
		b.WriteString(fmt.Sprintf("    %s {\n", table.Name))
		for _, col := range table.Columns {
			marker := ""
			switch {
			case col.PrimaryKey:
				marker = " PK"
			case col.ForeignKey:
				marker = " FK"
			}
			b.WriteString(fmt.Sprintf("        %s %s%s\n",
				mermaidType(col.DataType), col.Name, marker))
		}
		b.WriteString("    }\n")
	}

	for _, rel := range d.Relationships {
		label := rel.Label
		if label == "" {
			label = "has"
		}
		b.WriteString(fmt.Sprintf("    %s ||--o{ %s : \"%s\"\n",
			rel.FromTable, rel.ToTable, label))
	}

	return b.String()
}

// Markdown 渲染markdown格式的Schema说明文档
func (d *Diagram) Markdown() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Schema: %s\n\n", d.Name))

	for _, table := range d.Tables {
		b.WriteString(fmt.Sprintf("## %s\n\n", table.Name))
		if table.Description != "" {
			b.WriteString(table.Description + "\n\n")
		}
		b.WriteString("| Column | Type | Constraints |\n")
		b.WriteString("|--------|------|-------------|\n")
		for _, col := range table.Columns {
			var constraints []string
			if col.PrimaryKey {
				constraints = append(constraints, "PRIMARY KEY")
			}
			if col.ForeignKey {
				constraints = append(constraints,
					fmt.Sprintf("FOREIGN KEY -> %s.%s", col.RefTable, col.RefColumn))
			}
			if !col.Nullable && !col.PrimaryKey {
				constraints = append(constraints, "NOT NULL")
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s |\n",
				col.Name, col.DataType, strings.Join(constraints, ", ")))
		}
		b.WriteString("\n")
	}

	if len(d.Relationships) > 0 {
		b.WriteString("## Relationships\n\n")
		for _, rel := range d.Relationships {
			b.WriteString(fmt.Sprintf("- `%s.%s` 1:N `%s.%s` (%s)\n",
				rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, rel.Label))
		}
	}

	return b.String()
}

// mermaidType 将SQL类型归一为mermaid标识符可用的形式
func mermaidType(dataType string) string {
	t := strings.ToLower(dataType)
	if idx := strings.Index(t, "("); idx > 0 {
		t = t[:idx]
	}
	return strings.ReplaceAll(strings.TrimSpace(t), " ", "_")
}

// QuestionCategory 示例问题分类
type QuestionCategory struct {
	Category  string   `json:"category"`
	Questions []string `json:"questions"`
}

// SampleQuestions 返回按难度分类的示例问题
// 与内置电商Schema配套，用于前端的问题提示
func SampleQuestions() []QuestionCategory {
	return []QuestionCategory{
		{
			Category: "基础查询",
			Questions: []string{
				"有多少个客户？",
				"列出所有商品类别",
				"昨天有哪些订单？",
			},
		},
		{
			Category: "聚合统计",
			Questions: []string{
				"每个类别的商品平均价格是多少？",
				"本月订单总金额是多少？",
				"库存最少的5个商品是什么？",
			},
		},
		{
			Category: "关联分析",
			Questions: []string{
				"哪3个商品的订单最多？",
				"每个城市的订单金额排名如何？",
				"下单最多的客户来自哪里？",
			},
		},
	}
}
