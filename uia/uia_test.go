package uia_test

import (
	"context"
	"testing"

	"github.com/hazyhaar/capflow/uia"
	"github.com/hazyhaar/capflow/uia/uiatest"
)

func TestParentOfReturnsInnermostContainer(t *testing.T) {
	combo := &uiatest.Element{ElemKind: uia.KindComboBox, ID: "combo:type"}
	inner := &uiatest.Element{
		ElemKind: uia.KindPane, ID: "pane:inner",
		Elems: []*uiatest.Element{combo},
	}
	win := &uiatest.Window{Element: uiatest.Element{
		ElemKind: uia.KindWindow, ID: "win",
		Elems: []*uiatest.Element{
			{ElemKind: uia.KindPane, ID: "pane:other",
				Elems: []*uiatest.Element{{ElemKind: uia.KindEdit, ID: "edit:other"}}},
			{ElemKind: uia.KindPane, ID: "pane:outer",
				Elems: []*uiatest.Element{inner}},
		},
	}}

	got, err := uia.ParentOf(context.Background(), win, combo)
	if err != nil {
		t.Fatalf("ParentOf: %v", err)
	}
	if got.RuntimeID() != "pane:inner" {
		t.Fatalf("parent %q, want pane:inner", got.RuntimeID())
	}
}

func TestParentOfDirectChildIsRoot(t *testing.T) {
	edit := &uiatest.Element{ElemKind: uia.KindEdit, ID: "edit:name"}
	win := &uiatest.Window{Element: uiatest.Element{
		ElemKind: uia.KindWindow, ID: "win",
		Elems:    []*uiatest.Element{edit},
	}}

	got, err := uia.ParentOf(context.Background(), win, edit)
	if err != nil {
		t.Fatalf("ParentOf: %v", err)
	}
	if got.RuntimeID() != "win" {
		t.Fatalf("parent %q, want the window itself", got.RuntimeID())
	}
}
