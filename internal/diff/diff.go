// Package diff computes node-anchored change sets between two document
// snapshots. Documents are JSON trees of the shape
// {"type":"doc","content":[...]}; top-level nodes carry a stable nodeId in
// their attrs that survives edits of the node's content.
package diff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	KindAdded     = "added"
	KindRemoved   = "removed"
	KindChanged   = "changed"
	KindUnchanged = "unchanged"

	OpInsert = "insert"
	OpDelete = "delete"
)

type Node struct {
	Key      string
	NodeID   string
	NodeType string
	Text     string
	Index    int
}

// TokenRun is a run of consecutive word tokens sharing one operation inside
// a changed node.
type TokenRun struct {
	Op     string   `json:"op"`
	Tokens []string `json:"tokens"`
}

type NodeChange struct {
	NodeID   string     `json:"nodeId"`
	Kind     string     `json:"kind"`
	NodeType string     `json:"nodeType,omitempty"`
	BaseText string     `json:"baseText,omitempty"`
	HeadText string     `json:"headText,omitempty"`
	Runs     []TokenRun `json:"runs,omitempty"`
}

type ChangeSet struct {
	Changes []NodeChange `json:"changes"`
}

// Compute diffs head against base node by node. Nodes are matched by their
// stable identifier; a node without one gets a positional key, so reordered
// anonymous nodes read as removed plus added.
func Compute(base, head json.RawMessage) ChangeSet {
	baseNodes := ParseNodes(base)
	headNodes := ParseNodes(head)

	baseByKey := make(map[string]Node, len(baseNodes))
	for _, node := range baseNodes {
		baseByKey[node.Key] = node
	}
	headByKey := make(map[string]Node, len(headNodes))
	for _, node := range headNodes {
		headByKey[node.Key] = node
	}

	changes := make([]NodeChange, 0, max(len(baseNodes), len(headNodes)))
	for key, baseNode := range baseByKey {
		headNode, exists := headByKey[key]
		if !exists {
			changes = append(changes, NodeChange{
				NodeID:   key,
				Kind:     KindRemoved,
				NodeType: baseNode.NodeType,
				BaseText: baseNode.Text,
			})
			continue
		}
		if baseNode.Text == headNode.Text {
			changes = append(changes, NodeChange{
				NodeID:   key,
				Kind:     KindUnchanged,
				NodeType: headNode.NodeType,
				HeadText: headNode.Text,
			})
			continue
		}
		changes = append(changes, NodeChange{
			NodeID:   key,
			Kind:     KindChanged,
			NodeType: headNode.NodeType,
			BaseText: baseNode.Text,
			HeadText: headNode.Text,
			Runs:     wordDiff(baseNode.Text, headNode.Text),
		})
	}
	for key, headNode := range headByKey {
		if _, exists := baseByKey[key]; exists {
			continue
		}
		changes = append(changes, NodeChange{
			NodeID:   key,
			Kind:     KindAdded,
			NodeType: headNode.NodeType,
			HeadText: headNode.Text,
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].NodeID != changes[j].NodeID {
			return changes[i].NodeID < changes[j].NodeID
		}
		return changes[i].Kind < changes[j].Kind
	})
	return ChangeSet{Changes: changes}
}

// Magnitude sums word tokens gained and lost across the change set. Added
// nodes count their full text as gained, removed nodes as lost.
func (cs ChangeSet) Magnitude() (added, removed int) {
	for _, change := range cs.Changes {
		switch change.Kind {
		case KindAdded:
			added += len(strings.Fields(change.HeadText))
		case KindRemoved:
			removed += len(strings.Fields(change.BaseText))
		case KindChanged:
			for _, run := range change.Runs {
				if run.Op == OpInsert {
					added += len(run.Tokens)
				} else {
					removed += len(run.Tokens)
				}
			}
		}
	}
	return added, removed
}

func (cs ChangeSet) HasChanges() bool {
	for _, change := range cs.Changes {
		if change.Kind != KindUnchanged {
			return true
		}
	}
	return false
}

// wordDiff aligns the two token sequences positionally and groups the
// mismatches into insert and delete runs.
func wordDiff(baseText, headText string) []TokenRun {
	baseTokens := strings.Fields(baseText)
	headTokens := strings.Fields(headText)

	var runs []TokenRun
	appendToken := func(op, token string) {
		if len(runs) > 0 && runs[len(runs)-1].Op == op {
			last := &runs[len(runs)-1]
			last.Tokens = append(last.Tokens, token)
			return
		}
		runs = append(runs, TokenRun{Op: op, Tokens: []string{token}})
	}

	for i := 0; i < max(len(baseTokens), len(headTokens)); i++ {
		var baseToken, headToken string
		hasBase := i < len(baseTokens)
		hasHead := i < len(headTokens)
		if hasBase {
			baseToken = baseTokens[i]
		}
		if hasHead {
			headToken = headTokens[i]
		}
		if hasBase && hasHead && baseToken == headToken {
			continue
		}
		if hasBase {
			appendToken(OpDelete, baseToken)
		}
		if hasHead {
			appendToken(OpInsert, headToken)
		}
	}
	return runs
}

// ParseNodes flattens the top-level content array into comparable nodes.
func ParseNodes(raw json.RawMessage) []Node {
	if len(raw) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	contentRaw, _ := doc["content"].([]any)
	if len(contentRaw) == 0 {
		return nil
	}

	nodes := make([]Node, 0, len(contentRaw))
	for idx, item := range contentRaw {
		nodeMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		nodeType, _ := nodeMap["type"].(string)
		attrs, _ := nodeMap["attrs"].(map[string]any)
		nodeID, _ := attrs["nodeId"].(string)
		key := nodeID
		if key == "" {
			if nodeType == "" {
				nodeType = "node"
			}
			key = fmt.Sprintf("%s@%d", nodeType, idx)
		}
		nodes = append(nodes, Node{
			Key:      key,
			NodeID:   nodeID,
			NodeType: nodeType,
			Text:     ExtractText(nodeMap),
			Index:    idx,
		})
	}
	return nodes
}

// ExtractText collects the node's own text plus every descendant's text,
// joined with single spaces.
func ExtractText(node map[string]any) string {
	text, _ := node["text"].(string)
	parts := make([]string, 0, 4)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, strings.TrimSpace(text))
	}
	content, _ := node["content"].([]any)
	for _, item := range content {
		child, ok := item.(map[string]any)
		if !ok {
			continue
		}
		childText := strings.TrimSpace(ExtractText(child))
		if childText != "" {
			parts = append(parts, childText)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
