//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the lmsauth server
// stores. It supports any database that GORM supports (PostgreSQL, MySQL,
// SQLite, etc.).
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: LMS accounts (students and drivers)
//   - refresh_tokens: issued refresh token ids, families and revocation state
//   - reset_codes: pending password reset codes, one per email
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	users := gormstore.NewUserStore(db)
//	refreshTokens := gormstore.NewRefreshTokenStore(db)
//	resetCodes := gormstore.NewResetCodeStore(db)
package gorm
