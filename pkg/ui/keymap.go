package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SelectPrevMessage key.Binding
	SelectNextMessage key.Binding
	UnfocusMessage    key.Binding
	FocusMessage      key.Binding
	SubmitMessage     key.Binding
	RetryMessage      key.Binding
	DismissError      key.Binding
	ScrollUp          key.Binding
	ScrollDown        key.Binding

	NewConversation  key.Binding
	PrevConversation key.Binding
	NextConversation key.Binding
	Export           key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	SelectPrevMessage: key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "previous message")),
	SelectNextMessage: key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "next message")),
	UnfocusMessage:    key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "browse messages")),
	FocusMessage:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "write")),
	SubmitMessage:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "send")),
	RetryMessage:      key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "retry")),
	DismissError:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "dismiss")),
	ScrollUp:          key.NewBinding(key.WithKeys("shift+pgup"), key.WithHelp("shift+pgup", "scroll up")),
	ScrollDown:        key.NewBinding(key.WithKeys("shift+pgdown"), key.WithHelp("shift+pgdown", "scroll down")),

	NewConversation:  key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
	PrevConversation: key.NewBinding(key.WithKeys("ctrl+up"), key.WithHelp("ctrl+↑", "newer chat")),
	NextConversation: key.NewBinding(key.WithKeys("ctrl+down"), key.WithHelp("ctrl+↓", "older chat")),
	Export:           key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "export")),

	Help: key.NewBinding(key.WithKeys("ctrl+h"), key.WithHelp("ctrl+h", "help")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SubmitMessage, k.RetryMessage, k.NewConversation, k.Help, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SubmitMessage, k.RetryMessage, k.UnfocusMessage, k.FocusMessage, k.DismissError},
		{k.SelectPrevMessage, k.SelectNextMessage, k.ScrollUp, k.ScrollDown},
		{k.NewConversation, k.PrevConversation, k.NextConversation, k.Export},
		{k.Help, k.Quit},
	}
}
