// Package identity resolve o IP do cliente a partir da cadeia de headers de proxy
// e o transforma em uma chave opaca (domain.Key) que rotaciona a cada hora.
//
// A rotação horária limita por quanto tempo um IP pode ser correlacionado no
// espaço de chaves. Não é anonimização forte: quem tiver chaves consecutivas e o
// salt consegue correlacionar.
package identity
