package api

import (
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/workflow"
)

// itemView is a gallery item with its images inlined as data URLs.
type itemView struct {
	*garment.GalleryItem
	OriginalImage  string `json:"originalImage"`
	ModifiedImage  string `json:"modifiedImage"`
	ReferenceImage string `json:"referenceImage,omitempty"`
}

func newItemView(item *garment.GalleryItem) itemView {
	return itemView{
		GalleryItem:    item,
		OriginalImage:  item.OriginalImage.DataURL(),
		ModifiedImage:  item.ModifiedImage.DataURL(),
		ReferenceImage: item.ReferenceImage.DataURL(),
	}
}

func newItemViews(items []*garment.GalleryItem) []itemView {
	views := make([]itemView, 0, len(items))
	for _, it := range items {
		views = append(views, newItemView(it))
	}
	return views
}

// sessionView is the client's view of a session.
type sessionView struct {
	*workflow.Snapshot
	StepName     string     `json:"stepName"`
	RawUpload    string     `json:"rawUpload,omitempty"`
	WorkingImage string     `json:"workingImage,omitempty"`
	CurrentImage string     `json:"currentImage,omitempty"`
	Gallery      []itemView `json:"gallery"`
}

func newSessionView(snap *workflow.Snapshot) sessionView {
	return sessionView{
		Snapshot:     snap,
		StepName:     snap.Step.String(),
		RawUpload:    snap.RawUpload.DataURL(),
		WorkingImage: snap.WorkingImage.DataURL(),
		CurrentImage: snap.CurrentImage.DataURL(),
		Gallery:      newItemViews(snap.Gallery),
	}
}
