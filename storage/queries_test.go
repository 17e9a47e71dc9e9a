package storage

import "testing"

func TestLoadQueries(t *testing.T) {
	LoadQueries()

	keys := []string{
		"init.create_extensions",
		"prediction.create_predictions_table",
		"prediction.create_predictions_indexes",
		"prediction.add_prediction",
		"prediction.update_prediction_status",
		"prediction.set_prediction_outputs",
		"prediction.get_prediction",
		"prediction.list_predictions",
		"images.create_images_table",
		"images.add_image",
		"images.list_images",
		"images.delete_image",
	}
	for _, key := range keys {
		if GetQuery(key) == "" {
			t.Errorf("query %q missing from embedded set", key)
		}
	}
}

func TestGetQueryUnknown(t *testing.T) {
	LoadQueries()
	if got := GetQuery("prediction.no_such_query"); got != "" {
		t.Errorf("unknown query returned %q", got)
	}
}
