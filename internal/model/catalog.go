package model

// ModelInfo 描述一个可选的外部托管模型。
type ModelInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tag    string `json:"tag,omitempty"`
	Vision bool   `json:"vision"`
}

// Catalog 是固定的模型目录，第一项为默认模型。
type Catalog []ModelInfo

// Find 按 ID 查找模型。
func (c Catalog) Find(id string) (ModelInfo, bool) {
	for _, m := range c {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Default 返回默认模型 ID；目录为空时返回空串。
func (c Catalog) Default() string {
	if len(c) == 0 {
		return ""
	}
	return c[0].ID
}

// SupportsVision 报告模型是否声明支持图片输入。不在目录中的模型视为不支持。
func (c Catalog) SupportsVision(id string) bool {
	m, ok := c.Find(id)
	return ok && m.Vision
}

// DisplayName 返回模型的展示名，未知模型直接显示 ID。
func (c Catalog) DisplayName(id string) string {
	if m, ok := c.Find(id); ok && m.Name != "" {
		return m.Name
	}
	return id
}

// Next 返回目录中 id 之后的模型（循环）。
func (c Catalog) Next(id string) string {
	if len(c) == 0 {
		return id
	}
	for i, m := range c {
		if m.ID == id {
			return c[(i+1)%len(c)].ID
		}
	}
	return c[0].ID
}
