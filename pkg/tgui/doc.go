// Package tgui holds the Telegram UI helpers shared by the bot handlers:
// HTML escaping for ParseMode="HTML", a message builder, inline keyboards,
// "scope:action:payload" callback data and list paging.
package tgui
