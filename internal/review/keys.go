package review

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Next           key.Binding
	Prev           key.Binding
	NextPane       key.Binding
	Errors         key.Binding
	Warnings       key.Binding
	All            key.Binding
	SuppressLine   key.Binding
	SuppressFile   key.Binding
	SuppressGlobal key.Binding
	Help           key.Binding
	Quit           key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Next:           key.NewBinding(key.WithKeys("n", "down", "j"), key.WithHelp("n", "next")),
		Prev:           key.NewBinding(key.WithKeys("p", "up", "k"), key.WithHelp("p", "previous")),
		NextPane:       key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
		Errors:         key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "errors")),
		Warnings:       key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "warnings+")),
		All:            key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "all")),
		SuppressLine:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "suppress line")),
		SuppressFile:   key.NewBinding(key.WithKeys("S"), key.WithHelp("S", "suppress file")),
		SuppressGlobal: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "suppress everywhere")),
		Help:           key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:           key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Prev, k.SuppressLine, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Next, k.Prev, k.NextPane},
		{k.Errors, k.Warnings, k.All},
		{k.SuppressLine, k.SuppressFile, k.SuppressGlobal},
		{k.Help, k.Quit},
	}
}
