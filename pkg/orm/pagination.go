package orm

import "gorm.io/gorm"

const MaxPageSize = 200

// Normalize 把分页参数收敛到合法区间：page 从 1 开始，limit 默认 50、上限 MaxPageSize
func Normalize(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// Offset 第 page 页的起始下标
func Offset(page, limit int) int {
	page, limit = Normalize(page, limit)
	return (page - 1) * limit
}

// ApplyPagination 应用分页到 GORM 查询
func ApplyPagination(db *gorm.DB, page, limit int) *gorm.DB {
	page, limit = Normalize(page, limit)
	return db.Offset(Offset(page, limit)).Limit(limit)
}
