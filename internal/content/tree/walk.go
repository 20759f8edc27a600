package tree

// Chapters returns the file nodes under root in sidebar order.
func Chapters(root *Node) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.Type == NodeTypeFile {
			out = append(out, n)
			return
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return out
}

// Neighbors returns the chapters before and after relPath in sidebar order.
// Either may be nil.
func Neighbors(root *Node, relPath string) (prev, next *Node) {
	chapters := Chapters(root)
	for i, n := range chapters {
		if n.RelativePath != relPath {
			continue
		}
		if i > 0 {
			prev = chapters[i-1]
		}
		if i+1 < len(chapters) {
			next = chapters[i+1]
		}
		return prev, next
	}
	return nil, nil
}

// Find returns the node at relPath, or nil.
func Find(root *Node, relPath string) *Node {
	if root == nil {
		return nil
	}
	if root.RelativePath == relPath {
		return root
	}
	for _, child := range root.Children {
		if found := Find(child, relPath); found != nil {
			return found
		}
	}
	return nil
}
