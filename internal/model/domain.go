package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "ADMIN"
	UserRoleOperator UserRole = "OPERATOR"
	UserRoleScanner  UserRole = "SCANNER" // device accounts used by vin-scanner
	UserRoleViewer   UserRole = "VIEWER"
)

type Principal struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// CanSubmitScans проверяет, может ли пользователь отправлять результаты сканирования
func (p Principal) CanSubmitScans() bool {
	return p.Role == UserRoleAdmin || p.Role == UserRoleOperator || p.Role == UserRoleScanner
}

// CanUploadSnapshots - загрузка фото доступна тем же ролям, что и отправка сканов
func (p Principal) CanUploadSnapshots() bool {
	return p.CanSubmitScans()
}
