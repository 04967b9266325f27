package topics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/nfrund/peerchat/internal/topicmgr"
)

// TopicDisplay represents a topic for display purposes
type TopicDisplay struct {
	Name        string         `json:"name"`
	Scope       string         `json:"scope"`
	Module      string         `json:"module,omitempty"`
	Description string         `json:"description"`
	Example     string         `json:"example,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func toDisplay(t topicmgr.Topic) TopicDisplay {
	return TopicDisplay{
		Name:        t.Name(),
		Scope:       string(t.Scope()),
		Module:      t.Module(),
		Description: t.Description(),
		Example:     t.Example(),
		Metadata:    t.Metadata(),
	}
}

// DisplayTopicsTable writes topics as an aligned table.
func DisplayTopicsTable(w io.Writer, topics []topicmgr.Topic) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "NAME\tSCOPE\tMODULE\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t-----\t------\t-----------")
	for _, topic := range topics {
		module := topic.Module()
		if module == "" {
			module = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			topic.Name(),
			topic.Scope(),
			module,
			truncateString(topic.Description(), 50))
	}
	return tw.Flush()
}

// DisplayTopicsJSON writes topics as an indented JSON document.
func DisplayTopicsJSON(w io.Writer, topics []topicmgr.Topic) error {
	displays := make([]TopicDisplay, len(topics))
	for i, topic := range topics {
		displays[i] = toDisplay(topic)
	}

	output := struct {
		Topics []TopicDisplay `json:"topics"`
		Count  int            `json:"count"`
	}{
		Topics: displays,
		Count:  len(displays),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// DisplayTopicDetails writes everything known about one topic.
func DisplayTopicDetails(w io.Writer, topic topicmgr.Topic, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(toDisplay(topic))
	}

	fmt.Fprintf(w, "Name:        %s\n", topic.Name())
	fmt.Fprintf(w, "Scope:       %s\n", topic.Scope())
	if topic.Module() != "" {
		fmt.Fprintf(w, "Module:      %s\n", topic.Module())
	}
	fmt.Fprintf(w, "Description: %s\n", topic.Description())
	if topic.Example() != "" {
		fmt.Fprintf(w, "Example:     %s\n", topic.Example())
	}

	metadata := topic.Metadata()
	if len(metadata) > 0 {
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "Metadata:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, metadata[k])
		}
	}
	return nil
}

// truncateString truncates a string to maxLen characters, adding "..." if truncated
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
