package store

// Schema is the idempotent DDL for every table the service persists to
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         BIGSERIAL PRIMARY KEY,
	balance    BIGINT      NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS products (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS product_options (
	id         BIGSERIAL PRIMARY KEY,
	product_id BIGINT      NOT NULL REFERENCES products(id),
	name       TEXT        NOT NULL,
	price      BIGINT      NOT NULL CHECK (price >= 0),
	stock      INTEGER     NOT NULL CHECK (stock >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS orders (
	id          BIGSERIAL PRIMARY KEY,
	user_id     BIGINT      NOT NULL,
	status      TEXT        NOT NULL,
	total_price BIGINT      NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS order_items (
	id                   BIGSERIAL PRIMARY KEY,
	order_id             BIGINT  NOT NULL REFERENCES orders(id),
	product_option_id    BIGINT  NOT NULL REFERENCES product_options(id),
	product_name         TEXT    NOT NULL,
	quantity             INTEGER NOT NULL CHECK (quantity > 0),
	total_price_at_order BIGINT  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);

CREATE TABLE IF NOT EXISTS payments (
	id         BIGSERIAL PRIMARY KEY,
	order_id   BIGINT      NOT NULL REFERENCES orders(id),
	status     TEXT        NOT NULL,
	amount     BIGINT      NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id);

CREATE TABLE IF NOT EXISTS daily_popular_products (
	id                BIGSERIAL PRIMARY KEY,
	product_id        BIGINT NOT NULL REFERENCES products(id),
	product_option_id BIGINT NOT NULL REFERENCES product_options(id),
	sold_date         DATE   NOT NULL,
	total_sold        BIGINT NOT NULL DEFAULT 0,
	UNIQUE (product_id, product_option_id, sold_date)
);
`
