package tiptree

import (
	"context"
	"fmt"
)

func ExampleStore_Diff() {
	ctx := context.Background()
	s, err := NewStore(Config{StoreImmutablePartsWith: NewInMemoryStore()})
	if err != nil {
		panic(err)
	}
	v1, err := s.Apply(ctx, Tip{}, "/", Map{"name": String("foo"), "size": NewInt(100)})
	if err != nil {
		panic(err)
	}
	v2, err := s.Apply(ctx, v1, "/", Map{"name": String("bar"), "tags": Seq{String("qwerty")}})
	if err != nil {
		panic(err)
	}
	s.Diff(ctx, v1, v2, func(path string, added, removed Value) (bool, error) {
		a, _ := MarshalJSON(added)
		r, _ := MarshalJSON(removed)
		if added != nil && removed != nil {
			fmt.Printf("changed %s from %s to %s\n", path, r, a)
		} else if removed != nil {
			fmt.Printf("removed %s value %s\n", path, r)
		} else {
			fmt.Printf("added   %s value %s\n", path, a)
		}
		return true, nil
	})
	// Output:
	// changed /name from "foo" to "bar"
	// removed /size value 100
	// added   /tags value ["qwerty"]
}

func ExampleTree_Set() {
	ctx := context.Background()
	s, err := NewStore(Config{StoreImmutablePartsWith: NewInMemoryStore()})
	if err != nil {
		panic(err)
	}
	tree := NewTree(s)
	first, err := tree.Set(ctx, "service/port", NewInt(8080))
	if err != nil {
		panic(err)
	}
	if _, err := tree.Set(ctx, "service/port", NewInt(8443)); err != nil {
		panic(err)
	}
	now, _, _ := tree.Get(ctx, "service/port")
	then, _, _ := tree.GetAt(ctx, first.Tip, "service/port")
	fmt.Println(len(tree.History()), now, then)
	// Output:
	// 2 8443 8080
}
