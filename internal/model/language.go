package model

// Language is a static catalog entry for a translation target.
type Language struct {
	ISOCode  string `gorm:"column:iso_code;type:varchar(16);primaryKey" json:"iso_code"`
	Name     string `gorm:"type:varchar(64);not null" json:"name"`
	Flag     string `gorm:"type:varchar(16)" json:"flag"`
	IsActive bool   `gorm:"not null;index" json:"is_active"`
	Position int    `gorm:"not null" json:"-"`
}

func (Language) TableName() string {
	return "languages"
}

// DefaultLanguages seeds the catalog on migrate.
var DefaultLanguages = []Language{
	{ISOCode: "en", Name: "English", Flag: "🇬🇧", IsActive: true, Position: 1},
	{ISOCode: "es", Name: "Español", Flag: "🇪🇸", IsActive: true, Position: 2},
	{ISOCode: "fr", Name: "Français", Flag: "🇫🇷", IsActive: true, Position: 3},
	{ISOCode: "de", Name: "Deutsch", Flag: "🇩🇪", IsActive: true, Position: 4},
	{ISOCode: "it", Name: "Italiano", Flag: "🇮🇹", IsActive: true, Position: 5},
	{ISOCode: "pt", Name: "Português", Flag: "🇵🇹", IsActive: true, Position: 6},
	{ISOCode: "ru", Name: "Русский", Flag: "🇷🇺", IsActive: true, Position: 7},
	{ISOCode: "uk", Name: "Українська", Flag: "🇺🇦", IsActive: true, Position: 8},
	{ISOCode: "pl", Name: "Polski", Flag: "🇵🇱", IsActive: true, Position: 9},
	{ISOCode: "tr", Name: "Türkçe", Flag: "🇹🇷", IsActive: true, Position: 10},
	{ISOCode: "ar", Name: "العربية", Flag: "🇸🇦", IsActive: true, Position: 11},
	{ISOCode: "hi", Name: "हिन्दी", Flag: "🇮🇳", IsActive: true, Position: 12},
	{ISOCode: "ja", Name: "日本語", Flag: "🇯🇵", IsActive: true, Position: 13},
	{ISOCode: "ko", Name: "한국어", Flag: "🇰🇷", IsActive: true, Position: 14},
	{ISOCode: "zh", Name: "中文", Flag: "🇨🇳", IsActive: true, Position: 15},
}
