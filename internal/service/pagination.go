package service

import "github.com/opsboard/opsboard-api/internal/domain"

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func paginated(data interface{}, total int64, page, pageSize int) *domain.PaginatedResponse {
	page, pageSize = normalizePage(page, pageSize)
	totalPages := int(total) / pageSize
	if int(total)%pageSize != 0 {
		totalPages++
	}
	return &domain.PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
