package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/workflow"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix  = "SESSION#"
	skMeta    = "META"
	skGallery = "GALLERY#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements workflow.Store on DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	archive   ImageArchive
	now       func() time.Time

	// written tracks gallery records already stored, per session.
	mu      sync.Mutex
	written map[string]map[string]bool
}

// Compile-time interface check.
var _ workflow.Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table. A nil archive
// stores image bytes inline in the records.
func NewDynamoStore(client DynamoAPI, tableName string, archive ImageArchive) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		archive:   archive,
		now:       time.Now,
		written:   make(map[string]map[string]bool),
	}
}

// imageRecord references image bytes, inline or by archive key.
type imageRecord struct {
	MIMEType string `dynamodbav:"mimeType"`
	Key      string `dynamodbav:"key,omitempty"`
	Data     []byte `dynamodbav:"data,omitempty"`
}

// sessionRecord is the META record.
type sessionRecord struct {
	Step            int                      `dynamodbav:"step"`
	Epoch           uint64                   `dynamodbav:"epoch"`
	CacheGeneration int                      `dynamodbav:"cacheGeneration"`
	RawUpload       *imageRecord             `dynamodbav:"rawUpload,omitempty"`
	WorkingImage    *imageRecord             `dynamodbav:"workingImage,omitempty"`
	CurrentImage    *imageRecord             `dynamodbav:"currentImage,omitempty"`
	CurrentItemID   string                   `dynamodbav:"currentItemId,omitempty"`
	Market          garment.MarketSettings   `dynamodbav:"market"`
	Analysis        *garment.AnalysisResult  `dynamodbav:"analysis,omitempty"`
	Features        *garment.GarmentFeatures `dynamodbav:"features,omitempty"`
	Selected        []garment.Attribute      `dynamodbav:"selected,omitempty"`
	CompareMode     bool                     `dynamodbav:"compareMode"`
	CompareIDs      []string                 `dynamodbav:"compareIds,omitempty"`
	DetailID        string                   `dynamodbav:"detailId,omitempty"`
	Dialog          workflow.DialogView      `dynamodbav:"dialog"`
	Background      workflow.BackgroundView  `dynamodbav:"background"`
	Notice          *workflow.Notice         `dynamodbav:"notice,omitempty"`
	GalleryOrder    []string                 `dynamodbav:"galleryOrder,omitempty"`
	UpdatedAt       int64                    `dynamodbav:"updatedAt"`
	ExpiresAt       int64                    `dynamodbav:"expiresAt"`
}

// galleryRecord is a GALLERY# record. The item ID is derived from the SK.
type galleryRecord struct {
	Item      garment.GalleryItem `dynamodbav:"item"`
	Original  *imageRecord        `dynamodbav:"original,omitempty"`
	Modified  *imageRecord        `dynamodbav:"modified,omitempty"`
	Reference *imageRecord        `dynamodbav:"reference,omitempty"`
}

// --- Internal helpers ---

// sessionPK returns the partition key for a session.
func sessionPK(sessionID string) string {
	return pkPrefix + sessionID
}

// expiresAt returns the Unix epoch timestamp for record expiration.
func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(SessionTTL).Unix()
}

// putItem marshals a record and writes it with PK, SK and TTL.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryBySKPrefix returns all items of a session whose SK begins with the
// given prefix. An empty prefix returns every item of the session.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, sessionID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	pk := sessionPK(sessionID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if skPrefix != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :skPrefix)")
		input.ExpressionAttributeValues[":skPrefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	var allItems []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return allItems, nil
}

// batchDeleteKeys deletes items by key in chunks of maxBatchWrite.
func (s *DynamoStore) batchDeleteKeys(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for i := 0; i < len(keys); i += maxBatchWrite {
		end := i + maxBatchWrite
		if end > len(keys) {
			end = len(keys)
		}

		var requests []types.WriteRequest
		for _, key := range keys[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem delete (%d items): %w", len(requests), err)
		}
		// Unprocessed items are left to the TTL.
	}
	return nil
}

func itemKey(sessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// --- Image references ---

func (s *DynamoStore) imageRef(ctx context.Context, sessionID string, img *garment.Image) (*imageRecord, error) {
	if img.Empty() {
		return nil, nil
	}
	if s.archive == nil {
		return &imageRecord{MIMEType: img.MIMEType, Data: img.Data}, nil
	}
	key := imageKey(sessionID, img)
	if err := s.archive.Put(ctx, key, img); err != nil {
		return nil, fmt.Errorf("archive image %s: %w", key, err)
	}
	return &imageRecord{MIMEType: img.MIMEType, Key: key}, nil
}

func (s *DynamoStore) resolve(ctx context.Context, ref *imageRecord) (*garment.Image, error) {
	if ref == nil {
		return nil, nil
	}
	if ref.Key == "" {
		return &garment.Image{MIMEType: ref.MIMEType, Data: ref.Data}, nil
	}
	if s.archive == nil {
		return nil, fmt.Errorf("image %s is archived but no archive is configured", ref.Key)
	}
	img, err := s.archive.Get(ctx, ref.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch archived image %s: %w", ref.Key, err)
	}
	if img.MIMEType == "" {
		img.MIMEType = ref.MIMEType
	}
	return img, nil
}

// --- Written-record bookkeeping ---

func (s *DynamoStore) isWritten(sessionID, itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written[sessionID][itemID]
}

func (s *DynamoStore) markWritten(sessionID, itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.written[sessionID]
	if !ok {
		set = make(map[string]bool)
		s.written[sessionID] = set
	}
	set[itemID] = true
}

// takeRemoved returns and forgets written items that are no longer live.
func (s *DynamoStore) takeRemoved(sessionID string, live map[string]bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id := range s.written[sessionID] {
		if !live[id] {
			removed = append(removed, id)
			delete(s.written[sessionID], id)
		}
	}
	return removed
}

// --- workflow.Store ---

// Save writes new gallery records, then the META record, then removes
// gallery records for deleted items.
func (s *DynamoStore) Save(ctx context.Context, snap *workflow.Snapshot) error {
	pk := sessionPK(snap.ID)

	live := make(map[string]bool, len(snap.Gallery))
	order := make([]string, 0, len(snap.Gallery))
	added := 0
	for _, item := range snap.Gallery {
		live[item.ID] = true
		order = append(order, item.ID)
		if s.isWritten(snap.ID, item.ID) {
			continue
		}
		rec, err := s.galleryRecord(ctx, snap.ID, item)
		if err != nil {
			return fmt.Errorf("save session %s: %w", snap.ID, err)
		}
		if err := s.putItem(ctx, pk, skGallery+item.ID, rec); err != nil {
			return fmt.Errorf("save gallery item %s/%s: %w", snap.ID, item.ID, err)
		}
		s.markWritten(snap.ID, item.ID)
		added++
	}

	rec, err := s.sessionRecord(ctx, snap, order)
	if err != nil {
		return fmt.Errorf("save session %s: %w", snap.ID, err)
	}
	if err := s.putItem(ctx, pk, skMeta, rec); err != nil {
		return fmt.Errorf("save session %s: %w", snap.ID, err)
	}

	removed := s.takeRemoved(snap.ID, live)
	if len(removed) > 0 {
		keys := make([]map[string]types.AttributeValue, len(removed))
		for i, id := range removed {
			keys[i] = itemKey(snap.ID, skGallery+id)
		}
		if err := s.batchDeleteKeys(ctx, keys); err != nil {
			return fmt.Errorf("remove deleted gallery items of %s: %w", snap.ID, err)
		}
	}

	log.Debug().
		Str("sessionId", snap.ID).
		Str("step", snap.Step.String()).
		Uint64("epoch", snap.Epoch).
		Int("galleryAdded", added).
		Int("galleryRemoved", len(removed)).
		Msg("Session persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) galleryRecord(ctx context.Context, sessionID string, item *garment.GalleryItem) (*galleryRecord, error) {
	rec := &galleryRecord{Item: *item}
	var err error
	if rec.Original, err = s.imageRef(ctx, sessionID, item.OriginalImage); err != nil {
		return nil, err
	}
	if rec.Modified, err = s.imageRef(ctx, sessionID, item.ModifiedImage); err != nil {
		return nil, err
	}
	if rec.Reference, err = s.imageRef(ctx, sessionID, item.ReferenceImage); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *DynamoStore) sessionRecord(ctx context.Context, snap *workflow.Snapshot, order []string) (*sessionRecord, error) {
	rec := &sessionRecord{
		Step:            int(snap.Step),
		Epoch:           snap.Epoch,
		CacheGeneration: snap.CacheGeneration,
		CurrentItemID:   snap.CurrentItemID,
		Market:          snap.Market,
		Analysis:        snap.Analysis,
		Features:        snap.Features,
		Selected:        snap.Selected,
		CompareMode:     snap.CompareMode,
		CompareIDs:      snap.CompareIDs,
		DetailID:        snap.DetailID,
		Dialog:          snap.Dialog,
		Background:      snap.Background,
		Notice:          snap.Notice,
		GalleryOrder:    order,
		UpdatedAt:       snap.UpdatedAt.UnixMilli(),
	}
	var err error
	if rec.RawUpload, err = s.imageRef(ctx, snap.ID, snap.RawUpload); err != nil {
		return nil, err
	}
	if rec.WorkingImage, err = s.imageRef(ctx, snap.ID, snap.WorkingImage); err != nil {
		return nil, err
	}
	if rec.CurrentImage, err = s.imageRef(ctx, snap.ID, snap.CurrentImage); err != nil {
		return nil, err
	}
	return rec, nil
}

// Load rebuilds a snapshot. Expired records that DynamoDB has not yet
// removed are treated as missing.
func (s *DynamoStore) Load(ctx context.Context, id string) (*workflow.Snapshot, error) {
	var rec sessionRecord
	found, err := s.getItem(ctx, sessionPK(id), skMeta, &rec)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if !found || (rec.ExpiresAt > 0 && rec.ExpiresAt < s.now().Unix()) {
		return nil, garment.Errorf(garment.KindNotFound, "load", "session %s not found", id)
	}

	items, err := s.queryBySKPrefix(ctx, id, skGallery)
	if err != nil {
		return nil, fmt.Errorf("load gallery of %s: %w", id, err)
	}
	byID := make(map[string]*garment.GalleryItem, len(items))
	for _, raw := range items {
		var gr galleryRecord
		if err := attributevalue.UnmarshalMap(raw, &gr); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("Failed to unmarshal gallery item, skipping")
			continue
		}
		skAttr, ok := raw["SK"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		item := gr.Item
		item.ID = strings.TrimPrefix(skAttr.Value, skGallery)
		if item.OriginalImage, err = s.resolve(ctx, gr.Original); err != nil {
			return nil, err
		}
		if item.ModifiedImage, err = s.resolve(ctx, gr.Modified); err != nil {
			return nil, err
		}
		if item.ReferenceImage, err = s.resolve(ctx, gr.Reference); err != nil {
			return nil, err
		}
		byID[item.ID] = &item
	}

	gallery := make([]*garment.GalleryItem, 0, len(rec.GalleryOrder))
	for _, itemID := range rec.GalleryOrder {
		item, ok := byID[itemID]
		if !ok {
			log.Warn().Str("sessionId", id).Str("itemId", itemID).Msg("Gallery item record missing, skipping")
			continue
		}
		gallery = append(gallery, item)
		s.markWritten(id, itemID)
	}

	snap := &workflow.Snapshot{
		ID:              id,
		Step:            workflow.Step(rec.Step),
		Epoch:           rec.Epoch,
		CacheGeneration: rec.CacheGeneration,
		CurrentItemID:   rec.CurrentItemID,
		Market:          rec.Market,
		Analysis:        rec.Analysis,
		Features:        rec.Features,
		Selected:        rec.Selected,
		CompareMode:     rec.CompareMode,
		CompareIDs:      rec.CompareIDs,
		DetailID:        rec.DetailID,
		Dialog:          rec.Dialog,
		Background:      rec.Background,
		Notice:          rec.Notice,
		Gallery:         gallery,
		UpdatedAt:       time.UnixMilli(rec.UpdatedAt),
	}
	if snap.RawUpload, err = s.resolve(ctx, rec.RawUpload); err != nil {
		return nil, err
	}
	if snap.WorkingImage, err = s.resolve(ctx, rec.WorkingImage); err != nil {
		return nil, err
	}
	if snap.CurrentImage, err = s.resolve(ctx, rec.CurrentImage); err != nil {
		return nil, err
	}

	log.Debug().Str("sessionId", id).Int("galleryItems", len(gallery)).Msg("Session loaded from DynamoDB")
	return snap, nil
}

// Delete removes every record and archived image of a session.
func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	items, err := s.queryBySKPrefix(ctx, id, "")
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
	}
	if err := s.batchDeleteKeys(ctx, keys); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.written, id)
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.DeletePrefix(ctx, sessionPrefix(id)); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("Failed to delete archived images, leaving them to the lifecycle policy")
		}
	}

	log.Info().Str("sessionId", id).Int("records", len(keys)).Msg("Session deleted from DynamoDB")
	return nil
}
