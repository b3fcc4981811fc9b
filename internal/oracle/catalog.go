package oracle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog 定义预言机目录的查询接口。
type Catalog interface {
	List() []Oracle
	Lookup(id string) (Oracle, bool)
}

// Oracle 描述一个可用于裁决预言的信息源。
type Oracle struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Defaults 返回内置的预言机目录。
func Defaults() []Oracle {
	return []Oracle{
		{ID: "BBC", Name: "BBC", Description: "British Broadcasting Corporation"},
		{ID: "AP", Name: "AP", Description: "Associated Press"},
		{ID: "COINDESK", Name: "CoinDesk", Description: "Crypto News Provider"},
	}
}

// StaticCatalog 是只读的内存目录。
type StaticCatalog struct {
	items []Oracle
	index map[string]int
}

// NewStaticCatalog 创建目录实例。ID 大小写不敏感，重复 ID 以第一次出现为准。
func NewStaticCatalog(items []Oracle) *StaticCatalog {
	c := &StaticCatalog{index: make(map[string]int, len(items))}
	for _, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			continue
		}
		key := strings.ToUpper(item.ID)
		if _, exists := c.index[key]; exists {
			continue
		}
		if item.Name == "" {
			item.Name = item.ID
		}
		c.index[key] = len(c.items)
		c.items = append(c.items, item)
	}
	return c
}

// Load 从 YAML 或 JSON 文件加载目录；路径为空时返回内置目录。
func Load(path string) (*StaticCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewStaticCatalog(Defaults()), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取预言机目录失败: %w", err)
	}

	var doc struct {
		Oracles []Oracle `json:"oracles" yaml:"oracles"`
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(content, &doc)
	default:
		err = yaml.Unmarshal(content, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("解析预言机目录失败: %w", err)
	}
	if len(doc.Oracles) == 0 {
		return nil, fmt.Errorf("预言机目录 %s 为空", path)
	}
	return NewStaticCatalog(doc.Oracles), nil
}

// List 返回按 ID 排序的副本。
func (c *StaticCatalog) List() []Oracle {
	if c == nil {
		return nil
	}
	out := append([]Oracle(nil), c.items...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup 按 ID 查找预言机。
func (c *StaticCatalog) Lookup(id string) (Oracle, bool) {
	if c == nil {
		return Oracle{}, false
	}
	idx, ok := c.index[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return Oracle{}, false
	}
	return c.items[idx], true
}

var _ Catalog = (*StaticCatalog)(nil)
