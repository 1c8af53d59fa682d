package storage

// Package storage provides the persistence layer used by the bot.
//
// It holds:
//   - Verification records (one per user) and the verified-email set
//   - Welcome messages and operator settings (SMTP credentials etc.)
//   - Game ping subscriber lists
//   - Dedup keys (command cooldowns) and an audit log of role mutations
