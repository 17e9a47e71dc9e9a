package storage

import (
	"context"
	"fmt"

	"atelier/models"
	"atelier/util"
)

// imageStore persists metadata rows for generated output images
type imageStore struct{}

func (s *imageStore) StoreImage(ctx context.Context, image *models.ImageMetadata) (int, error) {
	if Pool == nil {
		return 0, util.HandleError(fmt.Errorf("database connection pool is not initialized (Pool is nil)"))
	}

	var imageID int
	err := Pool.QueryRow(ctx, GetQuery("images.add_image"),
		image.PredictionID, image.UserID, image.Filename, image.Thumbnail,
		image.Format, image.Width, image.Height).
		Scan(&imageID)
	if err != nil {
		return 0, util.HandleError(err)
	}

	return imageID, nil
}

func (s *imageStore) ListImages(ctx context.Context, predictionID string) ([]models.ImageMetadata, error) {
	if Pool == nil {
		return nil, util.HandleError(fmt.Errorf("database connection pool is not initialized (Pool is nil)"))
	}

	rows, err := Pool.Query(ctx, GetQuery("images.list_images"), predictionID)
	if err != nil {
		return nil, util.HandleError(err)
	}
	defer rows.Close()

	var images []models.ImageMetadata
	for rows.Next() {
		var image models.ImageMetadata
		err := rows.Scan(&image.ID, &image.PredictionID, &image.UserID, &image.Filename,
			&image.Thumbnail, &image.Format, &image.Width, &image.Height, &image.CreatedAt)
		if err != nil {
			return nil, util.HandleError(err)
		}
		images = append(images, image)
	}
	if err := rows.Err(); err != nil {
		return nil, util.HandleError(err)
	}

	return images, nil
}

func (s *imageStore) DeleteImage(ctx context.Context, imageID int) error {
	if Pool == nil {
		return util.HandleError(fmt.Errorf("database connection pool is not initialized (Pool is nil)"))
	}

	_, err := Pool.Exec(ctx, GetQuery("images.delete_image"), imageID)
	if err != nil {
		return util.HandleError(err)
	}
	return nil
}
